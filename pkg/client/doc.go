// Package client is the Go SDK for the scholarchain ledger API served by
// chaind.
//
// Backend services that run out of process use it to append records, and
// operators use it to check integrity remotely.
//
// # Appending a record
//
//	c, err := client.New("https://ledger.internal:8080",
//	    client.WithBearerToken(serviceToken),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	block, err := c.AppendRecord(ctx, client.AppendRequest{
//	    RecordType: "presentation_submission",
//	    Operation:  "create",
//	    Model:      "PresentationRequest",
//	    ModelID:    "42",
//	    Data:       map[string]any{"title": "Thesis defence"},
//	    Actor:      &client.Actor{ID: "7", Name: "Ada"},
//	})
//
// A 409 response (the ledger lost a write race) is reported as ErrConflict
// and the request can be retried as is.
//
// # Verifying the chain
//
//	res, err := c.Verify(ctx)
//	if err == nil && !res.IsValid {
//	    for _, e := range res.Errors {
//	        fmt.Println(e) // "Block #2: Hash verification failed"
//	    }
//	}
//
// # Reading blocks
//
// Blocks never change through the API, so single-block reads can be cached:
//
//	c, _ := client.New(base, client.WithBearerToken(tok),
//	    client.WithCacheTTL(5*time.Minute),
//	)
//	b, err := c.Block(ctx, 12)
package client
