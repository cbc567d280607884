package message

import "fmt"

// Source locates media content. Exactly one of Bytes, URL, S3, or FileID
// must be set. Bytes are base64-encoded on the wire.
type Source struct {
	Bytes  []byte      `json:"bytes,omitempty"`
	URL    string      `json:"url,omitempty"`
	S3     *S3Location `json:"s3Location,omitempty"`
	FileID string      `json:"fileId,omitempty"`
}

// S3Location addresses an object by URI, optionally pinning the bucket owner.
type S3Location struct {
	URI         string `json:"uri"`
	BucketOwner string `json:"bucketOwner,omitempty"`
}

// BytesSource builds a source from raw bytes.
func BytesSource(data []byte) Source { return Source{Bytes: data} }

// URLSource builds a source from a URL.
func URLSource(url string) Source { return Source{URL: url} }

// S3Source builds a source from an S3 location.
func S3Source(uri, bucketOwner string) Source {
	return Source{S3: &S3Location{URI: uri, BucketOwner: bucketOwner}}
}

// FileIDSource builds a source from a provider file ID.
func FileIDSource(id string) Source { return Source{FileID: id} }

// Validate enforces source exclusivity.
func (s *Source) Validate() error {
	n := 0
	if len(s.Bytes) > 0 {
		n++
	}
	if s.URL != "" {
		n++
	}
	if s.S3 != nil {
		n++
	}
	if s.FileID != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("source must set exactly one of bytes, url, s3Location, fileId; has %d", n)
	}
	if s.S3 != nil && s.S3.URI == "" {
		return fmt.Errorf("s3 source requires a uri")
	}
	return nil
}

func (s Source) clone() Source {
	out := s
	out.Bytes = append([]byte(nil), s.Bytes...)
	if s.S3 != nil {
		v := *s.S3
		out.S3 = &v
	}
	return out
}
