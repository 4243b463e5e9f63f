package redis

import goredis "github.com/redis/go-redis/v9"

// createScript sets the node only if absent and records it in every
// ancestor's child set.
//
// KEYS[1] is the node key, KEYS[1+j] the child set of the j-th ancestor.
// ARGV[1] is the payload, ARGV[2] the TTL in milliseconds (0 for none) and
// ARGV[2+j] the name the (j-1)-th level is listed under in KEYS[1+j].
//
// Returns -1 when the node exists, otherwise the ancestor levels whose
// child set gained a member.
var createScript = goredis.NewScript(`
local ok
if tonumber(ARGV[2]) > 0 then
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
else
  ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if not ok then
  return -1
end
local changed = {}
for i = 2, #KEYS do
  if redis.call('SADD', KEYS[i], ARGV[i + 1]) == 1 then
    table.insert(changed, i - 1)
  end
end
return changed
`)

// deleteScript removes the node and prunes it from ancestor child sets while
// the pruned level has neither a node nor children of its own.
//
// KEYS[2j+1] and KEYS[2j+2] are the node key and child set of level j
// (0 is the node itself, the last pair is the root). ARGV[j+1] is the name of
// level j inside the child set of level j+1.
//
// Returns -1 when the node does not exist, otherwise the levels whose child
// set lost a member.
var deleteScript = goredis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return -1
end
local changed = {}
for j = 0, #ARGV - 1 do
  if redis.call('EXISTS', KEYS[2 * j + 1]) == 1 or redis.call('SCARD', KEYS[2 * j + 2]) > 0 then
    break
  end
  if redis.call('SREM', KEYS[2 * j + 4], ARGV[j + 1]) == 1 then
    table.insert(changed, j + 1)
  else
    break
  end
end
return changed
`)

// childrenScript lists live members of a child set, dropping members whose
// node expired and who have no children left.
//
// KEYS[1] is the child set, KEYS[2] the node key of the listed path.
// ARGV[1] and ARGV[2] are the node key and child set prefixes of its children.
//
// Returns -1 when the path has neither a node nor live children.
var childrenScript = goredis.NewScript(`
local out = {}
for _, m in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  if redis.call('EXISTS', ARGV[1] .. m) == 1 or redis.call('EXISTS', ARGV[2] .. m) == 1 then
    table.insert(out, m)
  else
    redis.call('SREM', KEYS[1], m)
  end
end
if #out == 0 and redis.call('EXISTS', KEYS[2]) == 0 then
  return -1
end
return out
`)
