package obd

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDongle answers commands from a script, like an ELM327 with echo off.
type fakeDongle struct {
	replies map[string]string
	pending bytes.Buffer
	out     bytes.Buffer
	sent    []string
}

func newFakeDongle(replies map[string]string) *fakeDongle {
	return &fakeDongle{replies: replies}
}

func (d *fakeDongle) Write(p []byte) (int, error) {
	d.pending.Write(p)
	for {
		line, err := d.pending.ReadString('\r')
		if err != nil {
			// incomplete command stays pending
			d.pending.Reset()
			d.pending.WriteString(line)
			break
		}
		cmd := strings.TrimSuffix(line, "\r")
		d.sent = append(d.sent, cmd)
		reply, ok := d.replies[cmd]
		if !ok {
			reply = "?"
		}
		if cmd == "" {
			reply = ""
		}
		d.out.WriteString(reply + "\r\r>")
	}
	return len(p), nil
}

func (d *fakeDongle) Read(p []byte) (int, error) {
	if d.out.Len() == 0 {
		return 0, io.EOF
	}
	return d.out.Read(p)
}

func initReplies() map[string]string {
	return map[string]string{
		"ATZ":   "\r\rELM327 v1.5",
		"ATE0":  "ATE0\rOK",
		"ATL1":  "OK",
		"ATSP3": "OK",
		"ATSP0": "OK",
		"ATS0":  "OK",
		"ATAL":  "OK",
		"ATH0":  "OK",
		"ATD0":  "OK",
	}
}

func TestInit(t *testing.T) {
	d := newFakeDongle(initReplies())
	c := NewClient(d, time.Second)

	require.NoError(t, c.Init(ProtocolISO9141))
	assert.Equal(t, []string{"", "ATZ", "ATE0", "ATL1", "ATSP3", "ATS0", "ATAL", "ATH0", "ATD0"}, d.sent)
}

func TestInitFailure(t *testing.T) {
	replies := initReplies()
	replies["ATS0"] = "?"
	c := NewClient(newFakeDongle(replies), time.Second)
	assert.Error(t, c.Init(ProtocolAuto))

	assert.Error(t, NewClient(newFakeDongle(initReplies()), time.Second).Init(Protocol("can")))
}

func TestQuery(t *testing.T) {
	d := newFakeDongle(map[string]string{
		"010C": "SEARCHING...\r410C1AF8",
		"0111": "41 11 80",
		"010D": "410D64",
		"0105": "41055A",
		"0106": "410680",
		"0110": "41100190",
		"ATRV": "12.6V",
	})
	c := NewClient(d, time.Second)

	tests := []struct {
		param Param
		want  float64
	}{
		{ParamRPM, 1726},
		{ParamThrottle, 128 * 100 / 255.0},
		{ParamSpeed, 100},
		{ParamCoolant, 50},
		{ParamFuelTrimShort, 0},
		{ParamMAF, 4},
		{ParamBattery, 12.6},
	}
	for _, tt := range tests {
		v, err := c.Query(tt.param)
		if assert.NoError(t, err, tt.param.Name) {
			assert.InDelta(t, tt.want, v, 0.001, tt.param.Name)
		}
	}
}

func TestQueryErrors(t *testing.T) {
	d := newFakeDongle(map[string]string{
		"010C": "NO DATA",
		"0111": "4111",
		"0104": "410C1AF8",
		"010D": "UNABLE TO CONNECT",
		"ATRV": "V",
	})
	c := NewClient(d, time.Second)

	_, err := c.Query(ParamRPM)
	assert.Equal(t, ErrNoData, errors.Cause(err))
	_, err = c.Query(ParamThrottle)
	assert.Equal(t, ErrMalformed, errors.Cause(err))
	_, err = c.Query(ParamEngineLoad)
	assert.Equal(t, ErrMalformed, errors.Cause(err))
	_, err = c.Query(ParamSpeed)
	assert.Equal(t, ErrNotConnected, errors.Cause(err))
	_, err = c.Query(ParamBattery)
	assert.Equal(t, ErrMalformed, errors.Cause(err))
	_, err = c.Query(ParamCoolant)
	assert.Equal(t, ErrMalformed, errors.Cause(err))
}

func TestQueryTimeout(t *testing.T) {
	c := NewClient(&silentPort{}, 20*time.Millisecond)
	_, err := c.Query(ParamRPM)
	assert.Equal(t, ErrTimeout, errors.Cause(err))
}

type silentPort struct{}

func (silentPort) Read(p []byte) (int, error)  { return 0, nil }
func (silentPort) Write(p []byte) (int, error) { return len(p), nil }

func TestCapabilities(t *testing.T) {
	d := newFakeDongle(map[string]string{
		// 04, 05, 0C, 0D, 11 and 20
		"0100": "41001818" + "8001",
		"0120": "NO DATA",
	})
	c := NewClient(d, time.Second)
	require.NoError(t, c.ReadCapabilities())

	assert.True(t, c.Supported(ParamEngineLoad))
	assert.True(t, c.Supported(ParamCoolant))
	assert.True(t, c.Supported(ParamRPM))
	assert.True(t, c.Supported(ParamSpeed))
	assert.True(t, c.Supported(ParamThrottle))
	assert.False(t, c.Supported(ParamMAF))
	assert.False(t, c.Supported(ParamIntakeAir))
	assert.True(t, c.Supported(ParamBattery))
	assert.Equal(t, []string{"0100", "0120"}, d.sent)
}

func TestCapabilitiesUnknown(t *testing.T) {
	c := NewClient(newFakeDongle(map[string]string{"0100": "NO DATA"}), time.Second)
	require.NoError(t, c.ReadCapabilities())
	assert.True(t, c.Supported(ParamMAF))
}

func TestTroubleCodes(t *testing.T) {
	d := newFakeDongle(map[string]string{
		"03": "4301330300000\r",
	})
	c := NewClient(d, time.Second)
	_, err := c.TroubleCodes()
	assert.Equal(t, ErrMalformed, errors.Cause(err))

	d.replies["03"] = "43013303010000\r43C12300000000"
	codes, err := c.TroubleCodes()
	require.NoError(t, err)
	assert.Equal(t, []Code{0x0133, 0x0301, 0xc123}, codes)

	d.replies["03"] = "NO DATA"
	codes, err = c.TroubleCodes()
	assert.NoError(t, err)
	assert.Empty(t, codes)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "P0133", Code(0x0133).String())
	assert.Equal(t, "C0123", Code(0x4123).String())
	assert.Equal(t, "B1A00", Code(0x9a00).String())
	assert.Equal(t, "U0100", Code(0xc100).String())
	assert.Equal(t, "O2 sensor slow response B1S1", Code(0x0133).Description())
}

func TestSchedulerProportional(t *testing.T) {
	entries := DefaultEntries()
	s, err := NewScheduler(entries)
	require.NoError(t, err)

	total := 0
	for _, e := range entries {
		total += e.Weight
	}
	rounds := 7
	counts := map[string]int{}
	for i := 0; i < total*rounds; i++ {
		p, ok := s.Next(nil)
		require.True(t, ok)
		counts[p.Name]++
	}
	for _, e := range entries {
		assert.Equal(t, e.Weight*rounds, counts[e.Param.Name], e.Param.Name)
	}
}

func TestSchedulerSpreads(t *testing.T) {
	s, err := NewScheduler([]Entry{{ParamRPM, 3}, {ParamCoolant, 1}})
	require.NoError(t, err)

	var got []string
	for i := 0; i < 8; i++ {
		p, _ := s.Next(nil)
		got = append(got, p.Name)
	}
	assert.Equal(t, []string{"rpm", "rpm", "coolant", "rpm", "rpm", "rpm", "coolant", "rpm"}, got)
}

func TestSchedulerEligible(t *testing.T) {
	s, err := NewScheduler(DefaultEntries())
	require.NoError(t, err)

	engineOff := func(p Param) bool { return !p.RequiresEngine }
	for i := 0; i < 100; i++ {
		p, ok := s.Next(engineOff)
		require.True(t, ok)
		assert.False(t, p.RequiresEngine, p.Name)
	}

	_, ok := s.Next(func(Param) bool { return false })
	assert.False(t, ok)

	s.Remove("rpm")
	assert.Equal(t, len(DefaultEntries())-1, s.Len())
}

func TestSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(nil)
	assert.Error(t, err)
	_, err = NewScheduler([]Entry{{ParamRPM, 0}})
	assert.Error(t, err)
	_, err = NewScheduler([]Entry{{ParamRPM, 1}, {ParamRPM, 2}})
	assert.Error(t, err)
}

func TestQueryMoreParams(t *testing.T) {
	c := NewClient(newFakeDongle(map[string]string{
		"0101": "410182070000",
		"0103": "41030200",
		"010E": "410E8C",
		"011F": "411F0102",
		"0122": "41220064",
		"0123": "41230010",
		"012D": "412D80",
		"0133": "413365",
		"013C": "413C1234",
	}), time.Second)

	tests := []struct {
		param Param
		want  float64
	}{
		{ParamMILStatus, 0x82},
		{ParamFuelStatus, 0x0200},
		{ParamTiming, 6},
		{ParamRuntime, 258},
		{ParamFuelRailRelative, 7.9},
		{ParamFuelRail, 160},
		{ParamEGRError, 0},
		{ParamBarometric, 101},
		{ParamCatalystB1S1, 426},
	}
	for _, tt := range tests {
		v, err := c.Query(tt.param)
		if assert.NoError(t, err, tt.param.Name) {
			assert.InDelta(t, tt.want, v, 0.001, tt.param.Name)
		}
	}
}

func TestCatalogUnique(t *testing.T) {
	names := map[string]bool{}
	pids := map[uint8]string{}
	for _, p := range catalog {
		assert.False(t, names[p.Name], p.Name)
		names[p.Name] = true
		if p.AT != "" {
			continue
		}
		other, dup := pids[p.PID]
		assert.False(t, dup, "%s and %s share pid %02X", p.Name, other, p.PID)
		pids[p.PID] = p.Name
	}
}

func TestLookup(t *testing.T) {
	p, err := Lookup("RPM")
	require.NoError(t, err)
	assert.Equal(t, "010C", p.Command())
	assert.Equal(t, "ATRV", ParamBattery.Command())

	p, err = Lookup("catalyst_b2s2")
	require.NoError(t, err)
	assert.Equal(t, "013F", p.Command())

	_, err = Lookup("boost")
	assert.Error(t, err)
}

func TestFuelEstimator(t *testing.T) {
	f := NewFuelEstimator(1)
	start := time.Unix(1000, 0)

	_, shortOK, _, mediumOK := f.Update(10, 0, start)
	assert.False(t, shortOK)
	assert.False(t, mediumOK)

	// 10 g/s of air is ~3.29 l/h of fuel; at 50 km/h that is ~6.57 l/100km
	var short, medium float64
	at := start
	for i := 0; i < 200; i++ {
		at = at.Add(time.Second)
		short, shortOK, medium, mediumOK = f.Update(10, 50, at)
	}
	assert.True(t, shortOK)
	assert.True(t, mediumOK)
	assert.InDelta(t, 6.573, short, 0.01)
	assert.InDelta(t, 6.573, medium, 0.01)
	assert.LessOrEqual(t, f.km, 1.02)

	// a gap in the data does not count as distance
	before := f.km
	f.Update(10, 50, at.Add(time.Minute))
	assert.Equal(t, before, f.km)
}
