// Package records is the composition root of the library. It reads the
// RECORDS_* environment, builds the object cache on the selected storage, the
// request queue, the date codec and the HTTP transport, and exposes them as a
// Runtime whose Env is shared by every model.Type of the process.
//
// Record endpoints follow a REST layout: GET {RECORDS_API_URL}/{path}/{id}
// returns the record, optionally wrapped in a {"data": ...} or
// {"result": ...} envelope. RESTFetcher implements model.Fetcher over it.
package records
