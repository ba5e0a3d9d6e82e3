/*
 * Copyright 2025 Carver Automation Corporation.
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

package store

// NormalizeRange resolves inclusive, possibly negative list indexes against
// a list of the given length. ok is false when the range selects nothing.
func NormalizeRange(start, stop, length int64) (from, to int64, ok bool) {
	if length <= 0 {
		return 0, 0, false
	}

	if start < 0 {
		start += length
	}

	if stop < 0 {
		stop += length
	}

	if start < 0 {
		start = 0
	}

	if stop >= length {
		stop = length - 1
	}

	if start > stop || start >= length {
		return 0, 0, false
	}

	return start, stop, true
}
