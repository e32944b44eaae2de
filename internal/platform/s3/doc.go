// Package s3 provides a read-only client for spec libraries stored in an
// S3-compatible bucket (AWS, MinIO, Ceph, Hetzner Object Storage).
package s3
