/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package buffers

import (
	"math"
	"unsafe"
)

// segment header layout:
// tag 8 byte | sequence 8 byte | position 8 byte | length 4 byte | next 4 byte | flag 4 byte | pad 4 byte
const (
	segmentHeaderSize = 40
	tagOffset         = 0
	sequenceOffset    = tagOffset + 8
	positionOffset    = sequenceOffset + 8
	lengthOffset      = positionOffset + 8
	nextOffset        = lengthOffset + 4
	flagOffset        = nextOffset + 4

	noNextSegment = math.MaxUint32
)

const (
	chainHeadFlag = 1 << iota
	hasNextFlag
)

// segment is one slot of the segment storage: the header followed by the
// payload area. Header fields are only touched with the slot lock held
// (read lock for readers, write lock for the writer).
type segment []byte

// segmentStride is the slot size for a payload capacity, keeping every
// header 8-byte aligned.
func segmentStride(payloadSize int) int {
	return (segmentHeaderSize + payloadSize + 7) &^ 7
}

func (s segment) tag() uint64 {
	return *(*uint64)(unsafe.Pointer(&s[tagOffset]))
}

func (s segment) sequence() uint64 {
	return *(*uint64)(unsafe.Pointer(&s[sequenceOffset]))
}

func (s segment) position() uint64 {
	return *(*uint64)(unsafe.Pointer(&s[positionOffset]))
}

func (s segment) length() int {
	return int(*(*uint32)(unsafe.Pointer(&s[lengthOffset])))
}

func (s segment) nextIndex() uint32 {
	return *(*uint32)(unsafe.Pointer(&s[nextOffset]))
}

func (s segment) isChainHead() bool {
	return (s[flagOffset] & chainHeadFlag) > 0
}

func (s segment) hasNext() bool {
	return (s[flagOffset] & hasNextFlag) > 0
}

// matchesSequence reports whether the slot still holds the write stamped
// with seq. A mismatch means it was overwritten since seq was observed.
func (s segment) matchesSequence(seq uint64) bool {
	return s.sequence() == seq
}

// payload is the whole payload area; data is the valid part of it.
func (s segment) payload() []byte {
	return s[segmentHeaderSize:]
}

func (s segment) data() []byte {
	return s[segmentHeaderSize : segmentHeaderSize+s.length()]
}

// stamp tags the slot for one write. The chain link is reset; linkNext sets it.
func (s segment) stamp(tag, seq, pos uint64, length int, head bool) {
	*(*uint64)(unsafe.Pointer(&s[tagOffset])) = tag
	*(*uint64)(unsafe.Pointer(&s[sequenceOffset])) = seq
	*(*uint64)(unsafe.Pointer(&s[positionOffset])) = pos
	*(*uint32)(unsafe.Pointer(&s[lengthOffset])) = uint32(length)
	*(*uint32)(unsafe.Pointer(&s[nextOffset])) = noNextSegment
	s[flagOffset] = 0
	if head {
		s[flagOffset] |= chainHeadFlag
	}
}

func (s segment) linkNext(next uint32) {
	*(*uint32)(unsafe.Pointer(&s[nextOffset])) = next
	s[flagOffset] |= hasNextFlag
}
