package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/r3labs/sse"
)

var (
	client  = &http.Client{Timeout: 5 * time.Second}
	target  = flag.String("target", "http://localhost:8010", "Target")
	channel = flag.String("channel", "", "Channel id")
	pubs    = flag.Int("c", 16, "Number of concurrent publishers")
	msgs    = flag.Int("n", 10000, "Number of messages")
	key     = flag.String("key", "", "HS256 surface key (empty when auth is disabled)")

	wgPub sync.WaitGroup
)

func main() {
	flag.Parse()
	if *channel == "" {
		log.Fatal("-channel is required")
	}
	var (
		publishers []*publisher
		jobs       = make(chan string, 256)
		token      string
		err        error
	)
	if *key != "" {
		token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"web2wave": map[string]any{
				"channels": []string{*channel},
			},
		}).SignedString([]byte(*key))
		if err != nil {
			log.Fatal(err)
		}
	}

	// subscriber
	sub := newSubscriber(token)
	if err := sub.Start(); err != nil {
		log.Fatal(err)
	}
	defer sub.Stop()

	// publishers
	wgPub.Add(*pubs)
	log.Printf("Starting %d publishers", *pubs)
	for range *pubs {
		p := new(publisher)
		p.Start(jobs, token)
		publishers = append(publishers, p)
	}

	// messages
	start := time.Now()
	log.Printf("Sending %d messages", *msgs)
	for range *msgs {
		jobs <- fmt.Sprintf(`{"event":"Load test","data":{"id":%q}}`, uuidv4())
	}
	close(jobs)
	wgPub.Wait()
	var sent, failed int
	for _, p := range publishers {
		sent += p.sent
		failed += p.failed
	}
	t := time.Since(start)
	log.Printf("%d sent, %d failed in %v (%.2f msgs/sec)", sent, failed, t.Truncate(time.Millisecond), float64(sent)/(float64(t)/float64(time.Second)))

	// close
	if err := post(`{"event":"Close webview","data":{}}`, token); err != nil {
		log.Fatalf("Close error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sub.Wait(ctx); err != nil {
		log.Fatalf("Dismiss not received: %v", err)
	}
	log.Printf("Dismissed after %d commands", sub.received)
}

type subscriber struct {
	client   *sse.Client
	events   chan *sse.Event
	received int
}

func newSubscriber(token string) *subscriber {
	c := sse.NewClient(*target + "/bridge/" + *channel + "/events")
	c.Connection = &http.Client{}
	if token != "" {
		c.Headers["Authorization"] = "Bearer " + token
	}
	return &subscriber{
		client: c,
		events: make(chan *sse.Event, 64),
	}
}

func (s *subscriber) Start() error {
	return s.client.SubscribeChanRaw(s.events)
}

func (s *subscriber) Stop() {
	s.client.Unsubscribe(s.events)
}

// Wait blocks until the dismiss command arrives.
func (s *subscriber) Wait(ctx context.Context) error {
	for {
		select {
		case evt := <-s.events:
			if evt == nil {
				continue
			}
			s.received++
			if strings.TrimSpace(string(evt.Event)) == "dismiss" {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type publisher struct {
	sent   int
	failed int
}

func (w *publisher) Start(jobs chan string, token string) {
	go func() {
		defer wgPub.Done()
		for body := range jobs {
			if err := post(body, token); err != nil {
				log.Printf("Publish error: %v", err)
				w.failed++
				continue
			}
			w.sent++
		}
	}()
}

func post(body, token string) error {
	req, err := http.NewRequest("POST", *target+"/bridge/"+*channel+"/iosListener", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func uuidv4() string {
	uuid, _ := uuid.NewV4()
	return fmt.Sprintf("urn:uuid:%s", uuid)
}
