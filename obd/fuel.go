package obd

import "time"

const (
	// stoichiometric air/fuel ratio and density (g/l) of petrol
	airFuelRatio = 14.7
	fuelDensity  = 745.0

	minEconSpeed = 5.0 // km/h, below this l/100km is meaningless
	maxGap       = 5 * time.Second
)

type fuelSegment struct {
	litres float64
	km     float64
}

// FuelEstimator turns mass air flow and vehicle speed into consumption
// figures: an instantaneous one and one averaged over the last Window km.
type FuelEstimator struct {
	Window float64

	last     time.Time
	segments []fuelSegment
	litres   float64
	km       float64
}

func NewFuelEstimator(windowKm float64) *FuelEstimator {
	if windowKm <= 0 {
		windowKm = 5
	}
	return &FuelEstimator{Window: windowKm}
}

// Update folds in one MAF sample (g/s) at speed (km/h). shortOK is false at
// standstill, mediumOK until some distance has been covered.
func (f *FuelEstimator) Update(maf, speed float64, at time.Time) (short float64, shortOK bool, medium float64, mediumOK bool) {
	lph := maf * 3600 / airFuelRatio / fuelDensity
	if speed >= minEconSpeed {
		short, shortOK = lph/speed*100, true
	}

	if !f.last.IsZero() {
		dt := at.Sub(f.last)
		if dt > 0 && dt <= maxGap {
			h := dt.Hours()
			f.add(fuelSegment{litres: lph * h, km: speed * h})
		}
	}
	f.last = at

	if f.km >= 0.1 {
		medium, mediumOK = f.litres/f.km*100, true
	}
	return
}

func (f *FuelEstimator) add(s fuelSegment) {
	f.segments = append(f.segments, s)
	f.litres += s.litres
	f.km += s.km
	for len(f.segments) > 1 && f.km-f.segments[0].km >= f.Window {
		f.litres -= f.segments[0].litres
		f.km -= f.segments[0].km
		f.segments = f.segments[1:]
	}
}
