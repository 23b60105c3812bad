// Package rundocs records acquisition runs as start, record and stop
// documents.
//
// Recorder implements hardware.RunRecorder on top of a Backend. Each run is
// assigned a UUID and a monotonically increasing scan id; persistent
// beamline metadata held by the backend is merged into every start
// document. RedisBackend keeps documents in Redis so other beamline tools can
// follow runs; MemoryBackend keeps them in process when no Redis is
// configured.
package rundocs
