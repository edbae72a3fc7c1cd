// Package server implements the HTTP side of docshook.
//
// The webhook route verifies a GitHub push delivery, runs the deployment
// command sequence, appends the attempt to the deployment log and answers
// with a fixed plain-text response:
//
//	400 Unsupported event     event type is not "push"
//	400 Missing signature     no X-Hub-Signature-256 header
//	500 Missing secret        no webhook secret configured
//	400 Invalid signature     signature does not match the body
//	500 Deployment failed     a command failed or timed out
//	200 Deployment successful
//
// Validation happens in that order and the first failure wins. Only
// deliveries that pass validation reach the deployment log.
//
// All other GET requests are served from the static site build directory.
package server
