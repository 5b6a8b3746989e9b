package gena

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeoutHeaderRecognizesInfinite(t *testing.T) {
	assert.Equal(t, -1, parseTimeoutHeader("Second-infinite", 1800))
	assert.Equal(t, -1, parseTimeoutHeader("second-INFINITE", 1800))
}

func TestParseTimeoutHeaderParsesSeconds(t *testing.T) {
	assert.Equal(t, 60, parseTimeoutHeader("Second-60", 1800))
}

func TestParseTimeoutHeaderFallsBackOnMalformed(t *testing.T) {
	assert.Equal(t, 1800, parseTimeoutHeader("garbage", 1800))
	assert.Equal(t, 1800, parseTimeoutHeader("", 1800))
}

func TestExpiryForInfiniteIsFarInFuture(t *testing.T) {
	exp := expiryFor(-1)
	assert.True(t, exp.After(time.Now().AddDate(50, 0, 0)))
}

func TestExpiryForFiniteAddsSeconds(t *testing.T) {
	before := time.Now()
	exp := expiryFor(60)
	assert.WithinDuration(t, before.Add(60*time.Second), exp, 2*time.Second)
}

func TestHostPortAddsDefaultPort(t *testing.T) {
	u, err := url.Parse("http://10.0.0.1/desc.xml")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1:80", hostPort(u))

	u2, err := url.Parse("http://10.0.0.1:50001/desc.xml")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1:50001", hostPort(u2))
}

func TestRequestURIIncludesQuery(t *testing.T) {
	u, err := url.Parse("http://10.0.0.1:50001/evt?sid=1")
	assert.NoError(t, err)
	assert.Equal(t, "/evt?sid=1", requestURI(u))
}

func TestRequestURIDefaultsToRoot(t *testing.T) {
	u, err := url.Parse("http://10.0.0.1:50001")
	assert.NoError(t, err)
	assert.Equal(t, "/", requestURI(u))
}

func TestParseCallbackHeaderExtractsURL(t *testing.T) {
	got, err := parseCallbackHeader("<http://10.0.0.5:51000/gena/notify>")
	assert.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:51000/gena/notify", got)
}

func TestParseCallbackHeaderRejectsMissingBrackets(t *testing.T) {
	_, err := parseCallbackHeader("http://10.0.0.5:51000/gena/notify")
	assert.Error(t, err)
}

func TestSplitEventURL(t *testing.T) {
	host, path, err := splitEventURL("http://10.0.0.5:51000/gena/notify")
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.5:51000", host)
	assert.Equal(t, "/gena/notify", path)
}

func TestSplitEventURLRejectsUnsupportedScheme(t *testing.T) {
	_, _, err := splitEventURL("https://10.0.0.5:51000/gena/notify")
	assert.Error(t, err)
}

func TestBuildPropertySetContainsEachProperty(t *testing.T) {
	body := buildPropertySet(map[string]string{"Volume": "5"})
	s := string(body)
	assert.Contains(t, s, `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	assert.Contains(t, s, "<Volume>5</Volume>")
	assert.Contains(t, s, "</e:propertyset>")
}
