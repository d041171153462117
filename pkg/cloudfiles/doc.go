// Package cloudfiles is a client for Rackspace Cloud Files and other OpenStack
// Swift deployments.
//
// A Client is built from a CredentialProvider (normally identity.Client) and a
// Transport (normally transport.HTTPTransport). Containers and objects are
// handles whose state is a snapshot of the last successful call.
//
// # Transfers
//
// StorageObject.Read fetches a whole object or an offset/size window, either
// into memory or streamed to a Sink in fixed pieces. Chunks walks a range as a
// lazy sequence of ranged GETs, so memory stays bounded by the chunk size.
// Write uploads any ChunkSource: Bytes, String, Reader, or another
// StorageObject. Uploads with a chunk size use chunked transfer encoding and
// hash the payload while it streams; verification compares that MD5 with the
// server's ETag.
//
// Example:
//
//	creds := identity.New(identity.WithAPIKey("user", "key"))
//	client, err := cloudfiles.New(creds, cloudfiles.WithRegion("DFW"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ct, err := client.CreateContainer(ctx, "photos")
//	obj, _ := ct.CreateObject(ctx, "cat.jpg")
//	err = obj.Write(ctx, cloudfiles.Reader(f), cloudfiles.WithWriteChunkSize(1<<20))
//	data, err := obj.Read(ctx, cloudfiles.WithOffset(100), cloudfiles.WithSize(50))
package cloudfiles
