// Package core provides the business logic of the product importer.
//
// This package holds the domain types and the application façade,
// independent of the HTTP layer and of the background workers that run
// imports and deliver webhooks.
//
// # Architecture
//
//   - [Repository]: adapts the generated Postgres queries to domain types.
//   - [Service]: the entry point for the HTTP layer (imports, products,
//     webhooks, maintenance).
//   - [UploadLimiter]: bounds how many uploads are written to disk at once.
//   - [MapError]: turns technical errors into user-facing messages.
//
// # Import flow
//
//  1. [Service.StartImport] checks the file name and content, stores the
//     file as UPLOAD_DIR/{job_id}.csv, creates a pending job and queues an
//     [ImportTask] on the csv_import queue.
//  2. The import worker (package importer) moves the job through
//     parsing, validating and importing to completed or failed, publishing
//     snapshots on the progress channel as it goes.
//  3. [Service.GetImportStatus] and [Service.StreamProgress] read the
//     snapshot, falling back to the job row.
//
// # Error Handling
//
// Lookups wrap [ErrNotFound]; request bodies that fail validation return a
// [*ValidationError]. [MapError] assigns each failure a code for support
// reference:
//
//   - DB001-DB007: database constraints and connectivity
//   - IMP001-IMP006: uploads and import jobs
//   - PRD001-PRD002: products
//   - WHK001: webhooks
//   - REQ001-REQ005: request handling
//
// # Events
//
// Product mutations emit product.created, product.updated and
// product.deleted through an [EventEmitter]. Emission is best-effort and
// never fails the mutation.
package core
