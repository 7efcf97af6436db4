// Package wire defines the messages exchanged between the host and content
// routers and the codec that chooses between their two encodings.
//
// A message is either inline, carrying an ordered list of typed argument
// values, or region-backed, carrying a single shared memory region that
// starts with a fixed header followed by the raw payload bytes.
//
// Inline layouts:
//
//	query     [context_id int, request_id int, payload string|binary|null, persistent bool]
//	cancel    [context_id int, request_id int]
//	success   [context_id int, request_id int, true, payload string|binary|null]
//	failure   [context_id int, request_id int, false, error_code int, error_text string]
//
// Region headers are little-endian:
//
//	response  context_id i32 | request_id i32 | is_binary u8                  (9 bytes)
//	query     context_id i32 | request_id i32 | is_persistent u8 | is_binary u8 (10 bytes)
//
// A message is region-backed when header size plus payload size reaches the
// configured threshold and a region can be allocated. Failure responses and
// cancel messages are always inline.
package wire
