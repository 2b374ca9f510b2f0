package types

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeServices(t *testing.T) {
	ch := NewChallenge("chall", "/c", "/c/docker-compose.yml", 5000, 80)
	ch.AddService("web", true)
	ch.AddService("db", false)
	ch.AddService("web", false) // duplicate, ignored

	assert.Equal(t, []string{"web", "db"}, ch.ServiceNames())
	assert.Equal(t, "web", ch.MainService)

	web, ok := ch.Service("web")
	require.True(t, ok)
	assert.True(t, web.IsMain)

	_, ok = ch.Service("missing")
	assert.False(t, ok)
}

func TestTargetRequiresAcceptingMainService(t *testing.T) {
	ch := NewChallenge("chall", "/c", "/c/docker-compose.yml", 5000, 80)
	ch.AddService("web", true)

	_, _, ok := ch.Target()
	assert.False(t, ok, "no observation yet")

	ch.UpdateService("web", func(s *ServiceState) {
		s.IPAddress = "172.18.0.2"
	})
	_, _, ok = ch.Target()
	assert.False(t, ok, "address without a successful probe is not a target")

	ch.UpdateService("web", func(s *ServiceState) {
		s.AcceptsConnections = true
	})
	ip, port, ok := ch.Target()
	require.True(t, ok)
	assert.Equal(t, "172.18.0.2", ip)
	assert.Equal(t, 80, port)
}

func TestServiceSnapshotIsACopy(t *testing.T) {
	ch := NewChallenge("chall", "/c", "/c/docker-compose.yml", 5000, 80)
	ch.AddService("web", true)

	snap, _ := ch.Service("web")
	snap.ContainerID = "mutated"

	fresh, _ := ch.Service("web")
	assert.Empty(t, fresh.ContainerID)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	ch := NewChallenge("chall", "/c", "/c/docker-compose.yml", 5000, 80)
	ch.AddService("web", true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				ch.UpdateService("web", func(s *ServiceState) {
					s.AcceptsConnections = !s.AcceptsConnections
				})
				ch.Service("web")
				ch.Target()
			}
		}()
	}
	wg.Wait()
}

func TestPortValidation(t *testing.T) {
	assert.False(t, ValidPublicPort(1023))
	assert.True(t, ValidPublicPort(1024))
	assert.True(t, ValidPublicPort(65535))
	assert.False(t, ValidPublicPort(65536))

	assert.False(t, ValidInternalPort(0))
	assert.True(t, ValidInternalPort(1))
	assert.True(t, ValidInternalPort(65535))
	assert.False(t, ValidInternalPort(65536))
}
