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

// Package buffers implements the color-partitioned transmission buffer that
// stages outgoing messages for many subscriber queues sharing few transport
// connections.
//
// A TransmissionBuffer is a fixed ring of segments. Each write is tagged with
// a Color and split into a chain of consecutive segments; each reader of a
// color gets, in write order, the chains of its color and of the global
// color (AllBuffersColor). Wraparound never silently destroys unread data:
// global data nobody has read yet and data a registered reader still needs
// make the write fail with ErrOverflow, or under OverflowDiscard the reader
// is moved on and told what it missed. Data of a color with no reader is
// overwritten and reported as missed to that color's next reader.
//
//	buf, _ := buffers.CreateSized(1024, 256)
//	queue := buffers.NewColor()
//	_ = buf.WriteBytes(ctx, []byte("hello"), queue)
//	_ = buf.WriteBytes(ctx, []byte("to everyone"), buffers.AllBuffersColor())
//	var out bytes.Buffer
//	buf.Read(&out, queue) // "helloto everyone"
package buffers
