// Package relay turns gateway chat requests into backend calls and backend
// output into gateway responses.
//
// Gateway model names are personas ("programmer", "sysadmin"), each mapped
// to a system instruction; the backend always receives the configured
// backend model. Streaming output is written chunk by chunk to an
// io.WriteCloser, normally a stream.Writer, which Stream closes on every
// exit path.
package relay
