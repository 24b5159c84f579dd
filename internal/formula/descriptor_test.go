package formula

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func textParam(name string) ParameterSpec {
	return ParameterSpec{Name: name, Kind: ParamText, Label: name, Required: true}
}

func validDescriptor() Descriptor {
	return Descriptor{
		Name:        "UPPER",
		Category:    "text",
		Description: "Upper-case a column",
		Parameters:  []ParameterSpec{textParam("text_column")},
	}
}

func ptr(f float64) *float64 { return &f }

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr error
	}{
		{"valid", func(*Descriptor) {}, nil},
		{"empty name", func(d *Descriptor) { d.Name = " " }, ErrDescriptorEmptyName},
		{"empty category", func(d *Descriptor) { d.Category = "" }, ErrDescriptorEmptyCategory},
		{"empty description", func(d *Descriptor) { d.Description = "" }, ErrDescriptorEmptyDescription},
		{"empty parameter name", func(d *Descriptor) { d.Parameters[0].Name = "" }, ErrParameterEmptyName},
		{"empty parameter label", func(d *Descriptor) { d.Parameters[0].Label = "" }, ErrParameterEmptyLabel},
		{"unknown kind", func(d *Descriptor) { d.Parameters[0].Kind = "date" }, ErrParameterInvalidKind},
		{"kind is case sensitive", func(d *Descriptor) { d.Parameters[0].Kind = "Text" }, ErrParameterInvalidKind},
		{"checkbox is not a kind", func(d *Descriptor) { d.Parameters[0].Kind = "checkbox" }, ErrParameterInvalidKind},
		{"select without options", func(d *Descriptor) { d.Parameters[0].Kind = ParamSingleSelect }, ErrParameterEmptyOptions},
		{"duplicate parameter", func(d *Descriptor) {
			d.Parameters = append(d.Parameters, textParam("text_column"))
		}, ErrParameterDuplicate},
		{"min above max", func(d *Descriptor) {
			d.Parameters[0].Validation = &Validation{Min: ptr(5), Max: ptr(1)}
		}, ErrParameterBadRange},
		{"bad pattern", func(d *Descriptor) {
			d.Parameters[0].Validation = &Validation{Pattern: "("}
		}, ErrParameterBadPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrConfig)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDescriptor_CheckParameters(t *testing.T) {
	d := Descriptor{
		Name: "SCORE", Category: "math", Description: "scores",
		Parameters: []ParameterSpec{
			{Name: "column", Kind: ParamText, Label: "Column", Required: true, Validation: &Validation{Pattern: `^[a-z_]+$`}},
			{Name: "weight", Kind: ParamNumber, Label: "Weight", Validation: &Validation{Min: ptr(0), Max: ptr(10)}},
			{Name: "strict", Kind: ParamBoolean, Label: "Strict"},
			{Name: "mode", Kind: ParamSingleSelect, Label: "Mode", Options: []string{"fast", "slow"}},
			{Name: "tags", Kind: ParamMultiSelect, Label: "Tags", Options: []string{"a", "b"}},
		},
	}
	require.NoError(t, d.Validate())

	tests := []struct {
		name   string
		params Params
		errMsg string
	}{
		{"minimal", Params{"column": String("price")}, ""},
		{"everything", Params{
			"column": String("price"), "weight": String("2.5"), "strict": String("false"),
			"mode": String("fast"), "tags": Strings("a", "b"),
		}, ""},
		{"missing required", Params{}, "missing required parameter: column"},
		{"null counts as missing", Params{"column": Null()}, "missing required parameter: column"},
		{"pattern mismatch", Params{"column": String("Price")}, "does not match"},
		{"not a number", Params{"column": String("p"), "weight": String("heavy")}, "must be a number"},
		{"below min", Params{"column": String("p"), "weight": Number(-1)}, "must be at least 0"},
		{"above max", Params{"column": String("p"), "weight": Number(11)}, "must be at most 10"},
		{"bad boolean", Params{"column": String("p"), "strict": String("maybe")}, "must be true or false"},
		{"unknown option", Params{"column": String("p"), "mode": String("medium")}, `"medium" is not one of fast, slow`},
		{"unknown multi option", Params{"column": String("p"), "tags": String("a,c")}, `"c" is not one of a, b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.CheckParameters(tt.params)
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrParameter)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestDescriptor_ApplyDefaults(t *testing.T) {
	d := validDescriptor()
	d.Parameters = append(d.Parameters, ParameterSpec{Name: "delimiter", Kind: ParamText, Label: "Delimiter", Default: String(",")})

	in := Params{"text_column": String("name")}
	out := d.ApplyDefaults(in)

	require.True(t, out["delimiter"].Equal(String(",")))
	require.NotContains(t, in, "delimiter", "input params must not be mutated")

	out = d.ApplyDefaults(Params{"delimiter": String(";")})
	require.True(t, out["delimiter"].Equal(String(";")))
}

func TestDescriptor_CloneIsDeep(t *testing.T) {
	d := validDescriptor()
	d.Parameters[0].Options = []string{"x"}
	d.Parameters[0].Validation = &Validation{Pattern: "x"}

	c := d.Clone()
	c.Parameters[0].Label = "changed"
	c.Parameters[0].Options[0] = "y"
	c.Parameters[0].Validation.Pattern = "y"

	require.Equal(t, "text_column", d.Parameters[0].Label)
	require.Equal(t, "x", d.Parameters[0].Options[0])
	require.Equal(t, "x", d.Parameters[0].Validation.Pattern)
}

func TestDescriptor_ActiveDefaultsToTrue(t *testing.T) {
	d := validDescriptor()
	require.Nil(t, d.Active)
	require.True(t, d.IsActive())

	off := d.WithActive(false)
	require.False(t, off.IsActive())
	require.True(t, d.IsActive(), "WithActive must not modify the receiver")

	c := off.Clone()
	*c.Active = true
	require.False(t, off.IsActive(), "clone must not share the flag")
}
