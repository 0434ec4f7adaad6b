package sqlinline

// Stored generation results, keyed by the opaque ID handed back to the user.

const QUpsertResult = `--sql 7f3c9a04-51be-4c1a-9d2e-aa40f8c21b6d
insert into stored_results(id, urls, metadata, created_at)
values ($1, $2::jsonb, $3::jsonb, now())
on conflict (id) do update
set urls = excluded.urls,
    metadata = excluded.metadata,
    created_at = excluded.created_at;
`

const QSelectResult = `--sql 1b8e2f6a-0c44-49d7-8b15-3de9c07a54f2
select urls, metadata, created_at
from stored_results
where id = $1;
`

const QDeleteResult = `--sql c5a1d093-7e62-4f8b-a1c4-92b04de6731e
delete from stored_results
where id = $1;
`

const QSweepExpiredResults = `--sql 3d72c8b1-94af-4e05-bd38-16f5a02c9e84
delete from stored_results
where created_at < now() - $1::interval;
`
