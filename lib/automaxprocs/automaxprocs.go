// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package automaxprocs applies the container CPU quota to GOMAXPROCS and
// reports the resulting value, so a worker pool can size itself against the
// runtime's real parallelism instead of the host's full core count.
package automaxprocs

import (
	"runtime"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"
)

var setOnce sync.Once

// Set calls maxprocs.Set the first time it is invoked in a process and
// returns the GOMAXPROCS value in effect afterward. Later calls skip
// re-applying the quota and just read the current value.
func Set() int {
	setOnce.Do(func() { maxprocs.Set() })
	return runtime.GOMAXPROCS(0)
}
