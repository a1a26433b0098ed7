package protocol

import (
	"strings"

	"github.com/kaelbridge/lansend/pkg/model"
)

// fingerprintLen is the length of a lowercase-hex SHA-256 digest.
const fingerprintLen = 64

// ValidateVersion fails with a KindVersionMismatch *Error, whose cause
// is a *VersionMismatch, unless actual equals the one version this
// module speaks.
func ValidateVersion(actual string) error {
	if actual != model.ProtocolVersion {
		return Wrap(KindVersionMismatch, "unsupported protocol version",
			&VersionMismatch{Expected: model.ProtocolVersion, Actual: actual})
	}
	return nil
}

// ValidateFingerprint enforces the 64-lowercase-hex-char shape.
func ValidateFingerprint(fp model.Fingerprint) error {
	s := string(fp)
	if len(s) != fingerprintLen {
		return New(KindInvalidRequest, "fingerprint must be 64 hex characters")
	}
	for _, r := range s {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isHex {
			return New(KindInvalidRequest, "fingerprint must be lowercase hex")
		}
	}
	return nil
}

// ValidateDeviceInfo enforces non-empty alias, non-zero port, a
// recognised protocol/deviceType, fingerprint shape, and version.
func ValidateDeviceInfo(d model.DeviceInfo) error {
	if strings.TrimSpace(d.Alias) == "" {
		return New(KindInvalidRequest, "alias must not be empty")
	}
	if d.Port == 0 {
		return New(KindInvalidRequest, "port must not be zero")
	}
	if !d.Protocol.Valid() {
		return New(KindInvalidRequest, "unrecognised protocol")
	}
	if !d.DeviceType.Valid() {
		return New(KindInvalidRequest, "unrecognised deviceType")
	}
	if err := ValidateFingerprint(d.Fingerprint); err != nil {
		return err
	}
	if err := ValidateVersion(d.Version); err != nil {
		return err
	}
	return nil
}

// ValidateFileMetadata enforces a non-empty fileName with no path
// separators and a size-bounded preview.
func ValidateFileMetadata(f model.FileMetadata) error {
	if strings.TrimSpace(f.FileName) == "" {
		return New(KindInvalidRequest, "fileName must not be empty")
	}
	if strings.ContainsAny(f.FileName, "/\\") {
		return New(KindInvalidRequest, "fileName must not contain path separators")
	}
	if f.Preview != nil && len(*f.Preview) > model.MaxPreviewBytes {
		return New(KindInvalidRequest, "preview exceeds maximum size")
	}
	return nil
}

// ValidateRegisterRequest validates the embedded DeviceInfo, the
// sessionId and every file's metadata.
func ValidateRegisterRequest(req model.RegisterRequest) error {
	if err := ValidateDeviceInfo(req.DeviceInfo); err != nil {
		return err
	}
	if strings.TrimSpace(string(req.SessionID)) == "" {
		return New(KindInvalidRequest, "sessionId must not be empty")
	}
	for id, f := range req.Files {
		if f.ID != id && f.ID != "" {
			return New(KindInvalidRequest, "file map key must match FileMetadata.ID")
		}
		if err := ValidateFileMetadata(f); err != nil {
			return err
		}
	}
	return nil
}
