package connection

import (
	"sync"
	"testing"

	"github.com/rickgao/agora/internal/model"
)

func TestRegistry_AddContains(t *testing.T) {
	r := NewRegistry()

	if r.Contains("AAPL", model.ChannelTrade) {
		t.Error("empty registry should not contain AAPL trades")
	}
	if !r.Add("AAPL", model.ChannelTrade) {
		t.Error("first Add should report new")
	}
	if r.Add("AAPL", model.ChannelTrade) {
		t.Error("second Add should report existing")
	}
	if !r.Contains("AAPL", model.ChannelTrade) {
		t.Error("registry should contain AAPL trades")
	}
	if r.Contains("AAPL", model.ChannelQuote) {
		t.Error("channels are tracked independently")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()
	r.Add("MSFT", model.ChannelQuote)
	r.Add("AAPL", model.ChannelTrade)
	r.Add("MSFT", model.ChannelQuote)
	r.Add("AAPL", model.ChannelQuote)

	want := []string{"quotes:MSFT", "trades:AAPL", "quotes:AAPL"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// List returns a copy.
	got[0].Symbol = "XXX"
	if r.List()[0].Symbol != "MSFT" {
		t.Error("List() exposed internal slice")
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	r.Add("AAPL", model.ChannelTrade)
	r.Clear()

	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
	if !r.Add("AAPL", model.ChannelTrade) {
		t.Error("Add after Clear should report new")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	added := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added <- r.Add("AAPL", model.ChannelTrade)
		}()
	}
	wg.Wait()
	close(added)

	n := 0
	for ok := range added {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Errorf("%d goroutines reported a new add, want 1", n)
	}
}
