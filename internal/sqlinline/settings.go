package sqlinline

// The bot persists its durable key-value document (session cookie, last
// sign-in date, resolution presets) as one row per key.

const QUpsertSetting = `--sql 9a640db2-3c17-4b9e-8f52-d041e7ab26c9
insert into bot_settings(key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update
set value = excluded.value,
    updated_at = now();
`

const QSelectSetting = `--sql e2185c4f-6ba9-40d3-97e1-58cf30a6d412
select value
from bot_settings
where key = $1;
`
