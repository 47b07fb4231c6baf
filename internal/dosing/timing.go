package dosing

import "fmt"

// TimingRecommendation tells when to dose relative to the start of a meal.
// A positive offset means dosing that many minutes before eating; a negative
// offset means dosing after the meal has started.
type TimingRecommendation struct {
	OffsetMinutes int    `json:"offsetMinutes"`
	Advice        string `json:"advice"`
}

// timingBand maps BSL below Below (mmol/L) to a pre-meal offset
type timingBand struct {
	Below  float64
	Offset int
	Advice string
}

var timingBands = []timingBand{
	{4.0, -15, "BSL is low: treat the low first and dose 15 minutes after starting the meal"},
	{6.0, 0, "Dose at the start of the meal"},
	{8.0, 10, "Dose 10 minutes before eating"},
	{10.0, 15, "Dose 15 minutes before eating"},
}

// GetTimingRecommendation maps the current BSL (mmol/L, nil if unknown) to a
// pre-meal dosing offset
func GetTimingRecommendation(currentBSL *float64) TimingRecommendation {
	if currentBSL == nil {
		return TimingRecommendation{Advice: "Check BSL before the meal; without a reading dose at the start of the meal"}
	}

	for _, band := range timingBands {
		if *currentBSL < band.Below {
			return TimingRecommendation{OffsetMinutes: band.Offset, Advice: band.Advice}
		}
	}
	return TimingRecommendation{
		OffsetMinutes: 20,
		Advice:        fmt.Sprintf("BSL %.1f mmol/L is high: dose 20 minutes before eating", *currentBSL),
	}
}
