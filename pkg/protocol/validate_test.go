package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kaelbridge/lansend/pkg/model"
)

func validFingerprint() model.Fingerprint {
	return model.Fingerprint(strings.Repeat("a", 64))
}

func validDeviceInfo() model.DeviceInfo {
	return model.DeviceInfo{
		Alias:       "Desk",
		Version:     model.ProtocolVersion,
		DeviceType:  model.DeviceTypeDesktop,
		Fingerprint: validFingerprint(),
		Port:        53317,
		Protocol:    model.ProtocolHTTPS,
	}
}

func TestValidateVersionRejectsMismatch(t *testing.T) {
	assert.NoError(t, ValidateVersion(model.ProtocolVersion))

	err := ValidateVersion("1.0")
	assert.Error(t, err)
	assert.Equal(t, KindVersionMismatch, KindOf(err))
}

func TestValidateFingerprintShape(t *testing.T) {
	assert.NoError(t, ValidateFingerprint(validFingerprint()))
	assert.Error(t, ValidateFingerprint("too-short"))
	assert.Error(t, ValidateFingerprint(model.Fingerprint(strings.Repeat("A", 64))))
}

func TestValidateDeviceInfo(t *testing.T) {
	assert.NoError(t, ValidateDeviceInfo(validDeviceInfo()))

	missingAlias := validDeviceInfo()
	missingAlias.Alias = "  "
	assert.Error(t, ValidateDeviceInfo(missingAlias))

	zeroPort := validDeviceInfo()
	zeroPort.Port = 0
	assert.Error(t, ValidateDeviceInfo(zeroPort))

	badProtocol := validDeviceInfo()
	badProtocol.Protocol = "ftp"
	assert.Error(t, ValidateDeviceInfo(badProtocol))
}

func TestValidateFileMetadataRejectsPathSeparators(t *testing.T) {
	ok := model.FileMetadata{FileName: "report.pdf", Size: 10}
	assert.NoError(t, ValidateFileMetadata(ok))

	bad := model.FileMetadata{FileName: "../etc/passwd", Size: 10}
	err := ValidateFileMetadata(bad)
	assert.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestValidateRegisterRequestChecksFileKeyConsistency(t *testing.T) {
	req := model.RegisterRequest{
		DeviceInfo: validDeviceInfo(),
		SessionID:  "abc",
		Files: map[model.FileID]model.FileMetadata{
			"f1": {ID: "f1", FileName: "a.txt", Size: 1},
		},
	}
	assert.NoError(t, ValidateRegisterRequest(req))

	req.Files["f1"] = model.FileMetadata{ID: "mismatched", FileName: "a.txt", Size: 1}
	assert.Error(t, ValidateRegisterRequest(req))
}
