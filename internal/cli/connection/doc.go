// Package connection is the spanmesh-cli client of the admin API. It
// unwraps the response envelope and turns error envelopes into APIError.
package connection
