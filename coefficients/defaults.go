package coefficients

// Default returns the built-in document. The simple formula reproduces the
// firm's legacy rates: a 10,000 m² office at construction stage earns 50,000.
func Default() *Document {
	return &Document{
		Version: 1,
		Formula: Formula{Mode: ModeSimple},
		BaseParameters: BaseParameters{
			BasePrice:       50,
			CommissionRatio: 0.1,
		},
		BaseRates: map[string]float64{
			"office":      5.0,
			"residential": 4.0,
			"commercial":  6.0,
			"hotel":       6.5,
			"school":      4.5,
			"hospital":    7.0,
			"industrial":  3.5,
			"other":       4.0,
		},
		ScaleCoefficients: []Range{
			{Name: "Small (up to 5,000 m²)", Min: 0, Max: 5000, Coefficient: 1.2},
			{Name: "Medium (5,000-20,000 m²)", Min: 5000, Max: 20000, Coefficient: 1.0},
			{Name: "Large (20,000-50,000 m²)", Min: 20000, Max: 50000, Coefficient: 0.9},
			{Name: "Extra large (over 50,000 m²)", Min: 50000, Max: 10000000, Coefficient: 0.8},
		},
		BuildingTypeCoefficients: map[string]NamedCoefficient{
			"office":      {Name: "Office", Coefficient: 1.0},
			"residential": {Name: "Residential", Coefficient: 0.8},
			"commercial":  {Name: "Commercial", Coefficient: 1.2},
			"hotel":       {Name: "Hotel", Coefficient: 1.3},
			"school":      {Name: "School", Coefficient: 0.9},
			"hospital":    {Name: "Hospital", Coefficient: 1.4},
			"industrial":  {Name: "Industrial", Coefficient: 0.7},
			"other":       {Name: "Other", Coefficient: 0.8},
		},
		StageCoefficients: map[string]NamedCoefficient{
			"scheme":       {Name: "Scheme design", Coefficient: 0.6},
			"construction": {Name: "Construction drawings", Coefficient: 1.0},
			"cooperation":  {Name: "Construction cooperation", Coefficient: 0.4},
		},
		HeightCoefficients: []Range{
			{Name: "Low-rise (1-6 floors)", Min: 1, Max: 6, Coefficient: 1.0},
			{Name: "Mid-rise (7-18 floors)", Min: 7, Max: 18, Coefficient: 1.1},
			{Name: "High-rise (19-33 floors)", Min: 19, Max: 33, Coefficient: 1.2},
			{Name: "Super high-rise (34+ floors)", Min: 34, Max: 999, Coefficient: 1.3},
		},
		FormCoefficients: map[string]NamedCoefficient{
			"single":  {Name: "Single building", Coefficient: 1.0},
			"complex": {Name: "Building complex", Coefficient: 1.15},
		},
		PodiumRatioCoefficients: []Range{
			{Name: "Podium up to 10%", Min: 0, Max: 0.1, Coefficient: 1.0},
			{Name: "Podium 10-30%", Min: 0.1, Max: 0.3, Coefficient: 1.05},
			{Name: "Podium over 30%", Min: 0.3, Max: 1, Coefficient: 1.1},
		},
		BasementRatioCoefficients: []Range{
			{Name: "Basement up to 10%", Min: 0, Max: 0.1, Coefficient: 1.0},
			{Name: "Basement 10-30%", Min: 0.1, Max: 0.3, Coefficient: 1.05},
			{Name: "Basement over 30%", Min: 0.3, Max: 1, Coefficient: 1.1},
		},
		SpecialAttributes: map[string]Bonus{
			"has_basement":         {Name: "Has basement", Bonus: 0.15},
			"has_civil_defense":    {Name: "Civil defense works", Bonus: 0.05},
			"is_green_building":    {Name: "Green building", Bonus: 0.05},
			"is_prefabricated":     {Name: "Prefabricated construction", Bonus: 0.08},
			"is_reporting_project": {Name: "Reporting project", Bonus: 0.10},
			"is_review_project":    {Name: "Review project", Bonus: 0.05},
		},
		StageAllocation: map[string]float64{
			"scheme":       0.15,
			"construction": 0.85,
		},
		ChiefAllocation: ChiefAllocation{Chief: 0.07, Departments: 0.93},
		Departments: []Department{
			{ID: "arch", Name: "Architecture"},
			{ID: "structure", Name: "Structure"},
			{ID: "water", Name: "Water Supply and Drainage"},
			{ID: "electric", Name: "Electrical"},
			{ID: "hvac", Name: "HVAC"},
		},
		AreaTypes: map[string]AreaType{
			"none": {Name: "No air conditioning", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.3, "electric": 0.4, "hvac": 0.0,
			}},
			"central_ac": {Name: "Central air conditioning", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.4, "electric": 0.5, "hvac": 0.6,
			}},
			"vrv_with_pipe": {Name: "VRV with ducting", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.35, "electric": 0.45, "hvac": 0.4,
			}},
			"vrv_without_pipe": {Name: "VRV without ducting", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.3, "electric": 0.45, "hvac": 0.25,
			}},
			"split_ac_with_smoke": {Name: "Split AC with smoke exhaust", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.3, "electric": 0.4, "hvac": 0.15,
			}},
			"split_ac_only": {Name: "Split AC only", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.3, "electric": 0.4, "hvac": 0.05,
			}},
			"smoke_only": {Name: "Smoke exhaust only", Coefficients: map[string]float64{
				"arch": 1.0, "structure": 0.8, "water": 0.3, "electric": 0.4, "hvac": 0.1,
			}},
			"basement_ventilation": {Name: "Basement ventilation", Coefficients: map[string]float64{
				"arch": 0.8, "structure": 1.0, "water": 0.4, "electric": 0.4, "hvac": 0.2,
			}},
		},
	}
}
