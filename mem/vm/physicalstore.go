package vm

import (
	"fmt"
	"sync"
)

// A PhysicalStore holds the content of physical frames. The content is
// opaque to the translation engine.
type PhysicalStore interface {
	Write(pfn uint64, data []byte) error
	Read(pfn uint64) (data []byte, found bool)
	Erase(pfn uint64)
	Len() int
}

// NewPhysicalStore creates an empty store for numFrames frames.
func NewPhysicalStore(numFrames uint64) PhysicalStore {
	return &physicalStoreImpl{
		numFrames: numFrames,
		frames:    make(map[uint64][]byte),
	}
}

type physicalStoreImpl struct {
	sync.Mutex
	numFrames uint64
	frames    map[uint64][]byte
}

func (s *physicalStoreImpl) Write(pfn uint64, data []byte) error {
	if pfn >= s.numFrames {
		return fmt.Errorf("%w: pfn 0x%x, %d frames",
			ErrPFNOutOfRange, pfn, s.numFrames)
	}

	s.Lock()
	defer s.Unlock()

	s.frames[pfn] = append([]byte(nil), data...)

	return nil
}

func (s *physicalStoreImpl) Read(pfn uint64) ([]byte, bool) {
	s.Lock()
	defer s.Unlock()

	data, found := s.frames[pfn]
	if !found {
		return nil, false
	}

	return append([]byte(nil), data...), true
}

func (s *physicalStoreImpl) Erase(pfn uint64) {
	s.Lock()
	defer s.Unlock()

	delete(s.frames, pfn)
}

func (s *physicalStoreImpl) Len() int {
	s.Lock()
	defer s.Unlock()

	return len(s.frames)
}

// FrameLabel is the payload that the assignment policies write into a frame.
func FrameLabel(pfn, vpn uint64) []byte {
	return []byte(fmt.Sprintf("frame 0x%x holds vpn 0x%x", pfn, vpn))
}
