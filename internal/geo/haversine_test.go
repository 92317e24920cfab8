package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	seoul = Point{Lat: 37.5665, Lng: 126.9780}
	busan = Point{Lat: 35.1796, Lng: 129.0756}
)

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 325, HaversineKm(seoul, busan), 5)
	assert.Zero(t, HaversineKm(seoul, seoul))
	assert.Equal(t, HaversineKm(seoul, busan), HaversineKm(busan, seoul))
}

func TestBuildHaversineMatrix(t *testing.T) {
	pts := []Point{seoul, busan, {Lat: 35.8714, Lng: 128.6014}}
	costs := BuildHaversineMatrix(pts)

	for i := range pts {
		assert.Zero(t, costs[i][i])
		for j := range pts {
			assert.Equal(t, costs[j][i], costs[i][j])
			if i != j {
				assert.Equal(t, HaversineKm(pts[i], pts[j]), costs[i][j])
				assert.Positive(t, costs[i][j])
			}
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache()

	_, ok := c.Get("서울역")
	assert.False(t, ok)

	c.Put("서울역", seoul)
	p, ok := c.Get("서울역")
	assert.True(t, ok)
	assert.Equal(t, seoul, p)
	assert.Equal(t, 1, c.Len())
}
