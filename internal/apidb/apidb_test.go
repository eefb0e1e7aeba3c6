package apidb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

func TestCanonicalMACNormalisesSeparators(t *testing.T) {
	require.Equal(t, "aa:bb:cc:dd:ee:ff", CanonicalMAC("AA:BB:CC:DD:EE:FF"))
	require.Equal(t, "aa:bb:cc:dd:ee:ff", CanonicalMAC("aa-bb-cc-dd-ee-ff"))
	require.Equal(t, "aa:bb:cc:dd:ee:ff", CanonicalMAC("aabbccddeeff"))
}

func TestCanonicalMACInvalidLengthPassesThroughLowercased(t *testing.T) {
	require.Equal(t, "not-a-mac", CanonicalMAC("NOT-A-MAC"))
}

type fakeDB struct {
	records map[string]wifiloc.WifiAccessPoint
	err     error
}

func (f *fakeDB) FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error) {
	if f.err != nil {
		return wifiloc.WifiAccessPoint{}, false, f.err
	}
	ap, ok := f.records[mac]
	return ap, ok, nil
}

func (f *fakeDB) FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]wifiloc.WifiAccessPoint)
	for _, m := range macs {
		if ap, ok := f.records[m]; ok {
			out[m] = ap
		}
	}
	return out, nil
}

func TestCompositeDatabasePrefersRemote(t *testing.T) {
	remote := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:ff": {MacAddress: "aa:bb:cc:dd:ee:ff", Vendor: "remote"},
	}}
	cache := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:ff": {MacAddress: "aa:bb:cc:dd:ee:ff", Vendor: "cache"},
	}}
	c := &CompositeDatabase{Remote: remote, Cache: cache}

	ap, ok, err := c.FindByMac("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "remote", ap.Vendor)
}

func TestCompositeDatabaseFallsBackToCacheWhenRemoteErrors(t *testing.T) {
	remote := &fakeDB{err: errors.New("unavailable")}
	cache := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:ff": {MacAddress: "aa:bb:cc:dd:ee:ff", Vendor: "cache"},
	}}
	c := &CompositeDatabase{Remote: remote, Cache: cache}

	ap, ok, err := c.FindByMac("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cache", ap.Vendor)
}

func TestCompositeDatabaseFindByMacsMergesRemoteAndCache(t *testing.T) {
	remote := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:01": {MacAddress: "aa:01", Vendor: "remote"},
	}}
	cache := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:02": {MacAddress: "aa:02", Vendor: "cache"},
	}}
	c := &CompositeDatabase{Remote: remote, Cache: cache}

	found, err := c.FindByMacs([]string{"aa:01", "aa:02"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "remote", found["aa:01"].Vendor)
	require.Equal(t, "cache", found["aa:02"].Vendor)
}

func TestCompositeDatabaseNoCollaboratorsReturnsNotFound(t *testing.T) {
	c := &CompositeDatabase{}
	_, ok, err := c.FindByMac("aa:01")
	require.NoError(t, err)
	require.False(t, ok)
}
