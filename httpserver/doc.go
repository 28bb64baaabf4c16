// Package httpserver exposes the node's HTTP API.
//
// Health endpoints (/livez, /readyz, /drain, /undrain) follow the usual
// load balancer drain flow. The job API queues keygen, signing and service
// termination requests for the job bridge and answers 202; results and
// session state are polled:
//
//	POST /api/jobs/keygen                 {"service_id","call_id","participants":[hex],"threshold","ciphersuite"}
//	POST /api/jobs/sign                   {"service_id","call_id","signers":[hex],"message":hex}
//	POST /api/services/{service}/terminate
//	GET  /api/jobs/{service}/{call}       submitted result
//	GET  /api/sessions/{service}/{call}   session state, round and missing participants
//
// Prometheus metrics are served on the metrics listener, or on the API
// router when no metrics address is configured.
package httpserver
