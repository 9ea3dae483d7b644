// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package cs104

import "github.com/rs/xid"

// newSessionID returns a compact, sortable, globally unique id used to tag
// a MasterConnection in logs and metric labels.
func newSessionID() string {
	return xid.New().String()
}
