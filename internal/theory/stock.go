package theory

// Stock returns the theories shipped with the server.
func Stock() []*Theory {
	return []*Theory{
		{
			ID:   "simple-olog",
			Name: "Olog",
			Kind: KindDiscrete,
			ObTypes: []ObTypeMeta{
				{Name: "Type", Display: "Type", Description: "A type or concept"},
			},
			MorTypes: []MorTypeMeta{
				{Name: "Aspect", Display: "Aspect", Src: "Type", Tgt: "Type"},
			},
		},
		{
			ID:   "simple-schema",
			Name: "Schema",
			Kind: KindDiscrete,
			ObTypes: []ObTypeMeta{
				{Name: "Entity", Display: "Entity"},
				{Name: "AttrType", Display: "Attribute type"},
			},
			MorTypes: []MorTypeMeta{
				{Name: "Attr", Display: "Attribute", Src: "Entity", Tgt: "AttrType"},
				{Name: "Mapping", Display: "Mapping", Src: "Entity", Tgt: "Entity"},
			},
		},
		{
			ID:   "causal-loop",
			Name: "Causal loop diagram",
			Kind: KindDiscrete,
			ObTypes: []ObTypeMeta{
				{Name: "Variable", Display: "Variable"},
			},
			MorTypes: []MorTypeMeta{
				{Name: "Positive", Display: "Positive link", Src: "Variable", Tgt: "Variable"},
				{Name: "Negative", Display: "Negative link", Src: "Variable", Tgt: "Variable"},
			},
		},
		{
			// Tabulator theories have no model validator yet; documents on
			// this theory stay unvalidated.
			ID:   "reg-net",
			Name: "Regulatory network",
			Kind: KindDiscreteTabulator,
			ObTypes: []ObTypeMeta{
				{Name: "Species", Display: "Species"},
			},
			MorTypes: []MorTypeMeta{
				{Name: "Promotes", Display: "Promotion", Src: "Species", Tgt: "Species"},
				{Name: "Inhibits", Display: "Inhibition", Src: "Species", Tgt: "Species"},
			},
		},
	}
}
