package factory

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fhirflow/fhirflow/internal/pipeline/coding"
	"github.com/fhirflow/fhirflow/internal/pipeline/reference"
	"github.com/fhirflow/fhirflow/internal/pipeline/validate"
	"github.com/fhirflow/fhirflow/pkg/fhirtypes"
)

func newDeviceFactory() *DeviceFactory {
	base := NewBase("device", coding.New(zerolog.Nop()), validate.New(), reference.New())
	return NewDeviceFactory(base)
}

func TestDeviceFactory_ExplicitType(t *testing.T) {
	f := newDeviceFactory()
	res, _, err := f.BuildResource("Device", map[string]interface{}{
		"name":         "Bedside Monitor 3",
		"type":         "monitor",
		"manufacturer": "Acme",
	})
	require.NoError(t, err)
	cc := res["type"].(fhirtypes.CodeableConcept)
	assert.Equal(t, "264957007", cc.Coding[0].Code)
}

func TestDeviceFactory_InferTypeFromName(t *testing.T) {
	f := newDeviceFactory()
	res, _, err := f.BuildResource("Device", map[string]interface{}{"name": "IV Pump unit 4"})
	require.NoError(t, err)
	cc := res["type"].(fhirtypes.CodeableConcept)
	assert.Equal(t, "257268009", cc.Coding[0].Code)
}

func TestDeviceFactory_UseStatementRequiresRefs(t *testing.T) {
	f := newDeviceFactory()
	_, _, err := f.BuildResource("DeviceUseStatement", map[string]interface{}{"patient_id": "p1"})
	require.Error(t, err)

	res, _, err := f.BuildResource("DeviceUseStatement", map[string]interface{}{
		"patient_id": "p1",
		"device_ref": "d1",
	})
	require.NoError(t, err)
	subj := res["subject"].(fhirtypes.Reference)
	assert.Equal(t, "Patient/p1", subj.Reference)
	dev := res["device"].(fhirtypes.Reference)
	assert.Equal(t, "Device/d1", dev.Reference)
}

func TestDeviceFactory_MetricTypeLOINC(t *testing.T) {
	f := newDeviceFactory()
	res, _, err := f.BuildResource("DeviceMetric", map[string]interface{}{
		"device_ref":  "d1",
		"metric_type": "heart_rate",
	})
	require.NoError(t, err)
	cc := res["type"].(fhirtypes.CodeableConcept)
	assert.Equal(t, "8867-4", cc.Coding[0].Code)
}
