package utils

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/sirupsen/logrus"
)

// WaitForCtrlC blocks until an interrupt or termination signal is received
// and returns it.
func WaitForCtrlC() os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	return <-c
}

// HandleSubroutinePanic is deferred in background goroutines so a panic is
// logged with its stack instead of crashing the process.
func HandleSubroutinePanic(identifier string) {
	if err := recover(); err != nil {
		logrus.WithError(fmt.Errorf("%v", err)).WithField("stack", string(debug.Stack())).Errorf("uncaught panic in %v subroutine", identifier)
	}
}
