package oplogsvc

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openfroyo/worker-executor/pkg/oplog"
)

var (
	// ErrPayloadNotFound is returned when an external payload is missing from blob storage.
	ErrPayloadNotFound = errors.New("oplog payload not found")
	// ErrPayloadCorrupt is returned when an external payload does not match its hash.
	ErrPayloadCorrupt = errors.New("oplog payload corrupt")
)

func payloadBlobPath(workerID oplog.WorkerID, ext *oplog.ExternalPayload) string {
	return "oplog-payload/" + workerID.String() + "/" + ext.BlobPath()
}

// UploadPayload stores data as a payload of the worker. Data larger than
// MaxPayloadSize goes to blob storage.
func (s *Service) UploadPayload(ctx context.Context, workerID oplog.WorkerID, data []byte) (oplog.Payload, error) {
	if len(data) <= s.config.MaxPayloadSize {
		s.metrics.RecordPayload(false, len(data))
		return oplog.InlinePayload(bytes.Clone(data)), nil
	}

	sum := md5.Sum(data)
	ext := &oplog.ExternalPayload{PayloadID: uuid.New(), MD5Hash: sum[:]}
	if err := s.blobs.PutBlob(ctx, payloadBlobPath(workerID, ext), data); err != nil {
		return oplog.Payload{}, fmt.Errorf("failed to upload oplog payload of worker %s: %w", workerID, err)
	}
	s.metrics.RecordPayload(true, len(data))

	return oplog.Payload{External: ext}, nil
}

// DownloadPayload returns the bytes of a payload of the worker.
func (s *Service) DownloadPayload(ctx context.Context, workerID oplog.WorkerID, payload oplog.Payload) ([]byte, error) {
	if !payload.IsExternal() {
		return payload.Inline, nil
	}

	ext := payload.External
	data, ok, err := s.blobs.GetBlob(ctx, payloadBlobPath(workerID, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to download oplog payload of worker %s: %w", workerID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (worker: %s, payload id: %s, md5 hash: %x)", ErrPayloadNotFound, workerID, ext.PayloadID, ext.MD5Hash)
	}
	if sum := md5.Sum(data); !bytes.Equal(sum[:], ext.MD5Hash) {
		return nil, fmt.Errorf("%w (worker: %s, payload id: %s)", ErrPayloadCorrupt, workerID, ext.PayloadID)
	}
	return data, nil
}

// PayloadDownloader resolves payloads to bytes. *Oplog implements it.
type PayloadDownloader interface {
	DownloadPayload(ctx context.Context, payload oplog.Payload) ([]byte, error)
}

// PayloadOf decodes the payload carried by an invocation entry into a T: the
// response of ImportedFunctionInvoked and ExportedFunctionCompleted or the
// request of ExportedFunctionInvoked. It reports false for entries without a
// payload.
func PayloadOf[T any](ctx context.Context, src PayloadDownloader, entry oplog.Entry) (T, bool, error) {
	var out T

	var payload oplog.Payload
	switch e := entry.(type) {
	case oplog.ImportedFunctionInvoked:
		payload = e.Response
	case oplog.ExportedFunctionInvoked:
		payload = e.Request
	case oplog.ExportedFunctionCompleted:
		payload = e.Response
	default:
		return out, false, nil
	}

	data, err := src.DownloadPayload(ctx, payload)
	if err != nil {
		return out, false, err
	}
	if err := oplog.DecodeValue(data, &out); err != nil {
		return out, false, fmt.Errorf("%s: %w", entry.Kind(), err)
	}
	return out, true, nil
}

// RequestOf decodes the request recorded by an ImportedFunctionInvoked entry.
func RequestOf[T any](ctx context.Context, src PayloadDownloader, entry oplog.ImportedFunctionInvoked) (T, error) {
	var out T
	data, err := src.DownloadPayload(ctx, entry.Request)
	if err != nil {
		return out, err
	}
	if err := oplog.DecodeValue(data, &out); err != nil {
		return out, fmt.Errorf("%s request: %w", entry.FunctionName, err)
	}
	return out, nil
}
