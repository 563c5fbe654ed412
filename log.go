// SPDX-License-Identifier: Apache-2.0

package sspi

import "log/slog"

// Log attribute keys
const (
	logKeyContextID = "context_id"
	logKeyPackage   = "package"
	logKeyTarget    = "target"
	logKeyRound     = "round"
	logKeyStatus    = "status"
	logKeyTokenLen  = "token_len"
	logKeyFlags     = "flags"
	logKeyOp        = "op"
	logKeyError     = "error"
)

var discardLogger = slog.New(slog.DiscardHandler)
