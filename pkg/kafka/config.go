package kafka

import "time"

// ProducerOption configures Producer.
type ProducerOption func(*producerSettings)

type producerSettings struct {
	brokers      []string
	acks         int
	compression  string
	attempts     int
	writeTimeout time.Duration
	readTimeout  time.Duration
	linger       time.Duration
	keyed        bool
}

func defaultProducerSettings() producerSettings {
	return producerSettings{
		acks:         -1,
		compression:  "gzip",
		attempts:     3,
		writeTimeout: 10 * time.Second,
		readTimeout:  10 * time.Second,
		linger:       50 * time.Millisecond,
	}
}

func WithBrokers(brokers []string) ProducerOption {
	return func(s *producerSettings) { s.brokers = brokers }
}

// WithCompression accepts gzip, snappy, lz4, zstd or none.
func WithCompression(codec string) ProducerOption {
	return func(s *producerSettings) { s.compression = codec }
}

// WithRequiredAcks sets the acknowledgement level; -1 waits for all in-sync replicas.
func WithRequiredAcks(acks int) ProducerOption {
	return func(s *producerSettings) { s.acks = acks }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(s *producerSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithBatchTimeout bounds how long a message may wait for its batch to fill.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(s *producerSettings) {
		if d > 0 {
			s.linger = d
		}
	}
}

func WithTimeouts(write, read time.Duration) ProducerOption {
	return func(s *producerSettings) {
		if write > 0 {
			s.writeTimeout = write
		}
		if read > 0 {
			s.readTimeout = read
		}
	}
}

// WithHashByKey routes messages with the same key to the same partition.
func WithHashByKey(on bool) ProducerOption {
	return func(s *producerSettings) { s.keyed = on }
}
