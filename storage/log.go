// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"fmt"
	"sync"

	"github.com/bitmark-inc/logger"
)

// logChannel lazily opens a logger.L channel on first use rather than at
// package-init time, since logger.New panics until logger.Initialise has
// been called. If the global logger is never initialised, it falls back to
// printing directly, matching fault/log.go's uninitialised-logger fallback.
type logChannel struct {
	tag  string
	once sync.Once
	l    *logger.L
}

func newLogChannel(tag string) *logChannel {
	return &logChannel{tag: tag}
}

func (c *logChannel) open() {
	c.once.Do(func() {
		defer func() {
			if recover() != nil {
				c.l = nil
			}
		}()
		c.l = logger.New(c.tag)
	})
}

func (c *logChannel) Infof(format string, arguments ...interface{}) {
	c.open()
	if nil != c.l {
		c.l.Infof(format, arguments...)
		return
	}
	fmt.Printf(c.tag+": "+format+"\n", arguments...)
}

func (c *logChannel) Warnf(format string, arguments ...interface{}) {
	c.open()
	if nil != c.l {
		c.l.Warnf(format, arguments...)
		return
	}
	fmt.Printf(c.tag+": "+format+"\n", arguments...)
}

func (c *logChannel) Debugf(format string, arguments ...interface{}) {
	c.open()
	if nil != c.l {
		c.l.Debugf(format, arguments...)
		return
	}
	fmt.Printf(c.tag+": "+format+"\n", arguments...)
}

// log channels, one per component, matching the rest of the codebase's
// convention of a dedicated logger.L per subsystem rather than one shared
// global channel.
var (
	pbLog  = newLogChannel("persistent")
	wtcLog = newLogChannel("write-cache")
)
