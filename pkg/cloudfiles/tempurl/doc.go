// Package tempurl signs and validates Swift temporary URLs.
//
// A temporary URL grants time-limited access to a single object without an
// auth token. The signature is an HMAC of
//
//	METHOD\nEXPIRES\nPATH
//
// keyed with the account's X-Account-Meta-Temp-Url-Key, where PATH is the
// storage path starting at /v1/. The client side signs with SignURL and the
// compatible server checks incoming requests with ValidateRequest.
//
// Example:
//
//	signer := tempurl.New(tempurl.WithKey(key))
//	u, err := signer.SignURLWithBase("https://storage.example.com", "GET",
//	    "/v1/MossoCloudFS_123/photos/cat.jpg", 10*time.Minute)
//	// https://storage.example.com/v1/MossoCloudFS_123/photos/cat.jpg?temp_url_sig=...&temp_url_expires=...
package tempurl
