// Package msgbus is the request builder used to talk to record endpoints.
//
// A Bus accumulates headers, query parameters and a body, then sends them with
// one of the verb methods through the retrying httpx client. Files are
// uploaded in fixed-size chunks with Chunks followed by Post: every chunk is
// an independent multipart request carrying its byte offset, and chunks are
// sent concurrently. The server reassembles them by offset.
//
// A Bus is not safe for concurrent use; create one per logical request.
package msgbus
