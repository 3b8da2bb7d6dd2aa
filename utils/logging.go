package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

// LogFatal logs a fatal error through the configured standard logger, tagged
// with the caller location. callerSkip 0 points at the LogFatal call itself.
func LogFatal(err error, errorMsg interface{}, callerSkip int, additionalInfos ...map[string]interface{}) {
	logErrorInfo(err, callerSkip, additionalInfos...).Fatal(errorMsg)
}

func logErrorInfo(err error, callerSkip int, additionalInfos ...map[string]interface{}) *logrus.Entry {
	entry := logrus.NewEntry(logrus.StandardLogger())

	pc, fullFilePath, line, ok := runtime.Caller(callerSkip + 2)
	if ok {
		entry = entry.WithFields(logrus.Fields{
			"_file":     filepath.Base(fullFilePath),
			"_function": runtime.FuncForPC(pc).Name(),
			"_line":     line,
		})
	} else {
		entry = entry.WithField("runtime", "callstack cannot be read")
	}

	if err != nil {
		// innermost cause first, so the root error is easy to spot in json logs
		chain := ErrorChain(err)
		for idx := range chain {
			entry = entry.WithField(fmt.Sprintf("errInfo_%v", idx), chain[len(chain)-1-idx])
		}
		entry = entry.WithField("errType", fmt.Sprintf("%T", err)).WithError(err)
	}

	for _, infoMap := range additionalInfos {
		entry = entry.WithFields(infoMap)
	}

	return entry
}

// ErrorChain returns the messages of err and every error it wraps, outermost
// first. Only single-error wrapping is followed.
func ErrorChain(err error) []string {
	chain := []string{}
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}
