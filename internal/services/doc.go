// Package services contains the business-logic layer between the HTTP
// transport and the license domain packages. Services translate domain
// results into client-facing response envelopes and attach trace IDs.
package services
