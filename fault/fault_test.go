// Copyright (c) 2014-2019 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault_test

import (
	"testing"

	"github.com/ledger-labs/chaindb/fault"
)

var (
	errExistsOne   = fault.ExistsError("exists one")
	errInvalidOne  = fault.InvalidError("invalid one")
	errNotFoundOne = fault.NotFoundError("not found one")
	errProcessOne  = fault.ProcessError("process one")
	errOutOfSpace  = fault.OutOfSpaceError("out of space")
	errIO          = fault.IOError("io error")
	errCorruption  = fault.CorruptionError("corruption")
	errTxState     = fault.TransactionStateError("bad transaction state")
	errConflict    = fault.ConflictError("conflict")
)

// test that the storage error kinds can be distinguished from one another
func TestErrorKinds(t *testing.T) {
	errorList := []struct {
		err        error
		exists     bool
		invalid    bool
		notFound   bool
		process    bool
		outOfSpace bool
		io         bool
		corruption bool
		txState    bool
		conflict   bool
	}{
		{errExistsOne, true, false, false, false, false, false, false, false, false},
		{errInvalidOne, false, true, false, false, false, false, false, false, false},
		{errNotFoundOne, false, false, true, false, false, false, false, false, false},
		{errProcessOne, false, false, false, true, false, false, false, false, false},
		{errOutOfSpace, false, false, false, false, true, false, false, false, false},
		{errIO, false, false, false, false, false, true, false, false, false},
		{errCorruption, false, false, false, false, false, false, true, false, false},
		{errTxState, false, false, false, false, false, false, false, true, false},
		{errConflict, false, false, false, false, false, false, false, false, true},
	}

	for i, e := range errorList {
		err := e.err
		if fault.IsErrExists(err) != e.exists {
			t.Errorf("%d: expected 'exists' == %v for err = %v", i, e.exists, err)
		}
		if fault.IsErrInvalid(err) != e.invalid {
			t.Errorf("%d: expected 'invalid' == %v for err = %v", i, e.invalid, err)
		}
		if fault.IsErrNotFound(err) != e.notFound {
			t.Errorf("%d: expected 'not found' == %v for err = %v", i, e.notFound, err)
		}
		if fault.IsErrProcess(err) != e.process {
			t.Errorf("%d: expected 'process' == %v for err = %v", i, e.process, err)
		}
		if fault.IsErrOutOfSpace(err) != e.outOfSpace {
			t.Errorf("%d: expected 'out of space' == %v for err = %v", i, e.outOfSpace, err)
		}
		if fault.IsErrIO(err) != e.io {
			t.Errorf("%d: expected 'io' == %v for err = %v", i, e.io, err)
		}
		if fault.IsErrCorruption(err) != e.corruption {
			t.Errorf("%d: expected 'corruption' == %v for err = %v", i, e.corruption, err)
		}
		if fault.IsErrTransactionState(err) != e.txState {
			t.Errorf("%d: expected 'transaction state' == %v for err = %v", i, e.txState, err)
		}
		if fault.IsErrConflict(err) != e.conflict {
			t.Errorf("%d: expected 'conflict' == %v for err = %v", i, e.conflict, err)
		}
	}
}
