package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/approver/service/dao"
)

func TestFilterByStatus(t *testing.T) {
	type testCase struct {
		name       string
		status     string
		parameters []*dao.Parameter
		expected   bool
	}
	tests := []testCase{
		{name: "no parameters", status: "Requested", expected: true},
		{name: "single match", status: "Requested", parameters: []*dao.Parameter{dao.NewParameter(dao.StatusParameter, "Requested")}, expected: true},
		{name: "single mismatch", status: "Approved", parameters: []*dao.Parameter{dao.NewParameter(dao.StatusParameter, "Requested")}, expected: false},
		{name: "any of", status: "Rejected", parameters: []*dao.Parameter{dao.NewParameter(dao.StatusParameter, "Approved", "Rejected")}, expected: true},
		{name: "none of", status: "Cancelled", parameters: []*dao.Parameter{dao.NewParameter(dao.StatusParameter, "Approved", "Rejected")}, expected: false},
		{name: "other names ignored", status: "Cancelled", parameters: []*dao.Parameter{dao.NewParameter("TransactionID", "t1")}, expected: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FilterByStatus(tc.status, tc.parameters))
		})
	}
}
