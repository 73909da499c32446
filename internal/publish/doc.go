// Package publish uploads finished renders to an object store.
//
// Two backends are supported: a minio client using FPutObject and the AWS S3
// multipart uploader. Objects are keyed <prefix>/<job_id>/<basename> so that
// re-running a job overwrites its previous upload.
package publish
