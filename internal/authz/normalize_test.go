package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRoleName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Event Coordinator", "event_coordinator"},
		{"Coordenação de Eventos", "coordenacao_de_eventos"},
		{"  Líder de Célula  ", "lider_de_celula"},
		{"Admin!!", "admin"},
		{"a--b__c", "a_b_c"},
		{"UPPER", "upper"},
		{"42nd Street Crew", "42nd_street_crew"},
		{"", ""},
		{"!!!", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeRoleName(tc.in), "input %q", tc.in)
	}
}
