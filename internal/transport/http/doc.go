// Package http contains the HTTP transport layer: request binding,
// response rendering, and route wiring for the license and benefits APIs.
// Handlers stay thin; all business decisions live in the services layer.
package http
