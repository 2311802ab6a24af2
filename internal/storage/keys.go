package storage

// KeyFor maps a tenant path and filename onto the flat object key
// {site}/{box}/{resource}/{filename}. Pure and total; filenames are
// generated by Ingest, so keys are always exactly four segments.
func KeyFor(t Tenant, filename string) string {
	return t.Site + "/" + t.Box + "/" + t.Resource + "/" + filename
}

// PrefixFor returns the tenant's key prefix, trailing separator included.
func PrefixFor(t Tenant) string {
	return t.Site + "/" + t.Box + "/" + t.Resource + "/"
}
