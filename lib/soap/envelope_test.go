package soap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/soap"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnpcore"
)

func TestBuildEnvelopeWrapsBody(t *testing.T) {
	env := soap.BuildEnvelope([]byte(`<u:SetVolume xmlns:u="urn:x"><Volume>5</Volume></u:SetVolume>`))
	s := string(env)
	assert.Contains(t, s, "<s:Envelope")
	assert.Contains(t, s, "<s:Body>")
	assert.Contains(t, s, "<u:SetVolume")
	assert.Contains(t, s, "</s:Body></s:Envelope>")
}

func TestExtractBodyRoundTrip(t *testing.T) {
	env := soap.BuildEnvelope([]byte(`<u:GetVolume xmlns:u="urn:x"/>`))
	body, err := soap.ExtractBody(env)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<u:GetVolume")
}

func TestExtractBodyMissingIsError(t *testing.T) {
	_, err := soap.ExtractBody([]byte("<s:Envelope></s:Envelope>"))
	assert.Error(t, err)
}

func TestExtractActionResponse(t *testing.T) {
	body := []byte(`<u:SetVolumeResponse xmlns:u="urn:x"></u:SetVolumeResponse>`)
	resp, err := soap.ExtractActionResponse(body)
	require.NoError(t, err)
	assert.Contains(t, string(resp), "SetVolumeResponse")
}

func TestExtractQueryStateVariableResponse(t *testing.T) {
	body := []byte(`<u:QueryStateVariableResponse xmlns:u="urn:x"><return>5</return></u:QueryStateVariableResponse>`)
	resp, err := soap.ExtractQueryStateVariableResponse(body)
	require.NoError(t, err)
	assert.Contains(t, string(resp), "<return>5</return>")
}

func TestExtractFaultParsesErrorCodeAndDescription(t *testing.T) {
	envelope := []byte(`<s:Envelope><s:Body><s:Fault><detail><UPnPError>` +
		`<errorCode>402</errorCode><errorDescription>Invalid Args</errorDescription>` +
		`</UPnPError></detail></s:Fault></s:Body></s:Envelope>`)
	body, err := soap.ExtractBody(envelope)
	require.NoError(t, err)
	fault, err := soap.ExtractFault(body)
	require.NoError(t, err)
	assert.Equal(t, 402, fault.ErrCode)
	assert.Equal(t, "Invalid Args", fault.ErrString)
}

func TestQueryStateVariableBodyEmbedsVarName(t *testing.T) {
	body := soap.QueryStateVariableBody("Volume")
	assert.Contains(t, string(body), "<u:varName>Volume</u:varName>")
}

func TestParseSOAPAction(t *testing.T) {
	svcType, action, err := soap.ParseSOAPAction(`"urn:schemas-upnp-org:service:Volume:1#SetVolume"`)
	require.NoError(t, err)
	assert.Equal(t, "urn:schemas-upnp-org:service:Volume:1", svcType)
	assert.Equal(t, "SetVolume", action)
}

func TestParseSOAPActionRejectsMalformed(t *testing.T) {
	_, _, err := soap.ParseSOAPAction("garbage")
	assert.Error(t, err)
}

func TestBuildFaultEnvelopeRoundTrips(t *testing.T) {
	fault := &upnpcore.Fault{ErrCode: 501, ErrString: "Action Failed"}
	env := soap.BuildFaultEnvelope(fault)
	body, err := soap.ExtractBody(env)
	require.NoError(t, err)
	got, err := soap.ExtractFault(body)
	require.NoError(t, err)
	assert.Equal(t, 501, got.ErrCode)
	assert.Equal(t, "Action Failed", got.ErrString)
}

func TestParseActionRequestBodyExtractsNamedAction(t *testing.T) {
	envelope := soap.BuildEnvelope([]byte(`<u:SetVolume xmlns:u="urn:x"><Volume>5</Volume></u:SetVolume>`))
	inner, err := soap.ParseActionRequestBody(envelope, "SetVolume")
	require.NoError(t, err)
	assert.Contains(t, string(inner), "<Volume>5</Volume>")
}

func TestParseQueryStateVariableBodyExtractsName(t *testing.T) {
	envelope := soap.BuildEnvelope(soap.QueryStateVariableBody("Volume"))
	name, err := soap.ParseQueryStateVariableBody(envelope)
	require.NoError(t, err)
	assert.Equal(t, "Volume", name)
}
