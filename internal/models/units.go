// Package models contains data structures used throughout the application
package models

// mgdlPerMmol is the molar conversion factor for glucose
const mgdlPerMmol = 18.0182

// ToMmol converts a mg/dL value to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / mgdlPerMmol
}

// ToMgdl converts a mmol/L value to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * mgdlPerMmol
}
