package state

import "errors"

// FakeMemory is an in-memory Memory for tests.
type FakeMemory struct {
	Data []byte

	// ReadError and WriteError, if set, are returned by Read and Write.
	ReadError  error
	WriteError error

	// Writes counts successful writes.
	Writes int
}

// NewFakeMemory creates an empty FakeMemory.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{}
}

// Read copies stored bytes into p.
func (m *FakeMemory) Read(offset int, p []byte) error {
	if m.ReadError != nil {
		return m.ReadError
	}
	if offset+len(p) > len(m.Data) {
		return errors.New("fake memory: read beyond end")
	}
	copy(p, m.Data[offset:])
	return nil
}

// Write stores p, growing the buffer as needed.
func (m *FakeMemory) Write(offset int, p []byte) error {
	if m.WriteError != nil {
		return m.WriteError
	}
	if need := offset + len(p); need > len(m.Data) {
		grown := make([]byte, need)
		copy(grown, m.Data)
		m.Data = grown
	}
	copy(m.Data[offset:], p)
	m.Writes++
	return nil
}
