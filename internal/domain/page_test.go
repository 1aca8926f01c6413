package domain_test

import (
	"testing"

	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, domain.Page{Number: 1, Size: domain.DefaultPageSize}, domain.Page{}.Normalize())
	assert.Equal(t, domain.Page{Number: 3, Size: domain.MaxPageSize}, domain.Page{Number: 3, Size: 1000}.Normalize())
	assert.Equal(t, 40, domain.Page{Number: 3, Size: 20}.Offset())
	assert.Equal(t, 0, domain.Page{Number: -2, Size: 5}.Offset())
}
