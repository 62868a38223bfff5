// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

package codec

import (
	"github.com/dblokhin/relaysync/buffer"
)

// RunLengthEncoder accumulates a sequence of equal-comparing values and
// writes them out as (value, run-length) VarUInt pairs. It is the
// struct-with-methods translation of what the source ecosystem would
// model as a closure factory (Design Notes §9): state lives in the
// struct, Push/Finish are its inherent methods.
type RunLengthEncoder struct {
	buf     *buffer.Buffer
	writeFn func(buf *buffer.Buffer, v uint64)
	have    bool
	current uint64
	run     uint64
}

// NewRunLengthEncoder returns an encoder that writes runs into buf. writeFn
// encodes one value (e.g. EncodeVarUint, or a fixed-width node id writer);
// passing a custom writeFn lets NodeID runs share this same accumulator.
func NewRunLengthEncoder(buf *buffer.Buffer, writeFn func(buf *buffer.Buffer, v uint64)) *RunLengthEncoder {
	return &RunLengthEncoder{buf: buf, writeFn: writeFn}
}

// Push appends v to the run, flushing the previous run first if v differs
// from it.
func (e *RunLengthEncoder) Push(v uint64) {
	if !e.have {
		e.have = true
		e.current = v
		e.run = 1
		return
	}
	if v == e.current {
		e.run++
		return
	}
	e.flush()
	e.current = v
	e.run = 1
}

func (e *RunLengthEncoder) flush() {
	e.writeFn(e.buf, e.current)
	EncodeVarUint(e.buf, e.run)
}

// Finish flushes any pending run. It is a no-op if Push was never called.
func (e *RunLengthEncoder) Finish() {
	if e.have {
		e.flush()
		e.have = false
	}
}

// DecodeRuns reads (value, run-length) pairs from buf until exactly count
// values have been produced, calling emit once per logical value in order.
// readFn decodes one value (its counterpart to writeFn above).
func DecodeRuns(buf *buffer.Buffer, count int, readFn func(buf *buffer.Buffer) (uint64, error), emit func(v uint64)) error {
	produced := 0
	for produced < count {
		value, err := readFn(buf)
		if err != nil {
			return err
		}
		run, err := DecodeVarUint(buf)
		if err != nil {
			return err
		}
		if run == 0 {
			return ErrInvalidData
		}
		if produced+int(run) > count {
			return ErrInvalidData
		}
		for i := uint64(0); i < run; i++ {
			emit(value)
		}
		produced += int(run)
	}
	return nil
}
