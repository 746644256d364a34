// Package batch loads YAML batch files and runs each one as a single
// concurrent batch of in-memory requests.
//
// A batch file looks like:
//
//	name: smoke
//	variables:
//	  base: https://api.example.com
//	auth:
//	  type: oauth2
//	  tokenUrl: "{{base}}/oauth/token"
//	  clientId: "{{$CLIENT_ID}}"
//	  clientSecret: "{{$CLIENT_SECRET}}"
//	requests:
//	  - name: health
//	    method: GET
//	    url: "{{base}}/health"
//	    expect:
//	      status: 200
//	      json:
//	        status: ok
//	      body:
//	        - path: checks
//	          op: length
//	          value: 3
//	      schema: schemas/health.json
//	      snapshot: body
//
// Templates in urls, headers and bodies are expanded by an env.Resolver
// before the requests are built. The auth section sets the Authorization
// header of entries that have none; OAuth2 tokens are fetched through the
// same client and cached until they expire.
//
// Requests that cannot be built keep their slot in the result and are
// reported as failed; the rest of the batch still runs.
package batch
